package errdefs

import (
	"errors"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// retryableCodes are the incoming stream statuses a topic or file job may
// retry. Everything else surfaces to the scheduler as non-retryable.
var retryableCodes = map[codes.Code]bool{
	codes.DeadlineExceeded:  true,
	codes.ResourceExhausted: true,
	codes.Aborted:           true,
	codes.Unavailable:       true,
	codes.DataLoss:          true,
	codes.Unauthenticated:   true,
	codes.PermissionDenied:  true,
}

// ClassifyStream translates a stream receive error into the job error
// taxonomy. Non-status errors (local failures while forwarding) count as
// retryable.
func ClassifyStream(topic string, err error) error {
	if err == nil {
		return nil
	}
	st, ok := status.FromError(err)
	if !ok {
		return Retryable(err)
	}
	if retryableCodes[st.Code()] {
		return Retryable(err)
	}
	return &TopicStreamError{Topic: topic, Err: Fatal(err)}
}

// ToGRPC maps an error kind to the status returned to a streaming caller
func ToGRPC(err error) error {
	if err == nil {
		return nil
	}
	if _, ok := status.FromError(err); ok {
		return err
	}
	switch {
	case errors.Is(err, ErrInvalidTopic):
		return status.Error(codes.InvalidArgument, err.Error())
	case IsAuth(err):
		return status.Error(codes.Unauthenticated, err.Error())
	case IsConfiguration(err):
		return status.Error(codes.FailedPrecondition, err.Error())
	case IsRetryable(err):
		return status.Error(codes.Unavailable, err.Error())
	}
	return status.Error(codes.Internal, err.Error())
}
