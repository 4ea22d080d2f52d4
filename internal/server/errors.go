package server

import (
	"context"
	"errors"
	"fmt"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/nainya/artifactstore/pkg/conflict"
	"github.com/nainya/artifactstore/pkg/content"
	"github.com/nainya/artifactstore/pkg/lease"
	"github.com/nainya/artifactstore/pkg/restore"
	"github.com/nainya/artifactstore/pkg/version"
)

var errInvalidArgument = errors.New("invalid argument")

func invalidArgument(format string, args ...any) error {
	return fmt.Errorf("%w: %s", errInvalidArgument, fmt.Sprintf(format, args...))
}

// toStatus maps domain errors onto gRPC status codes
func toStatus(err error) error {
	if err == nil {
		return nil
	}
	if _, ok := status.FromError(err); ok {
		return err
	}

	switch {
	case errors.Is(err, version.ErrNotFound):
		return status.Error(codes.NotFound, err.Error())
	case errors.Is(err, errInvalidArgument),
		errors.Is(err, restore.ErrInvalidRestoreFields),
		errors.Is(err, lease.ErrInvalidTTL),
		errors.Is(err, conflict.ErrUnknownResolution),
		errors.Is(err, conflict.ErrMissingRecord),
		errors.Is(err, content.ErrInvalidUTF8):
		return status.Error(codes.InvalidArgument, err.Error())
	case errors.Is(err, lease.ErrLeaseHeld), errors.Is(err, lease.ErrLeaseNotHeld):
		return status.Error(codes.FailedPrecondition, err.Error())
	case errors.Is(err, context.Canceled):
		return status.Error(codes.Canceled, err.Error())
	case errors.Is(err, context.DeadlineExceeded):
		return status.Error(codes.DeadlineExceeded, err.Error())
	default:
		return status.Errorf(codes.Internal, "internal error: %v", err)
	}
}
