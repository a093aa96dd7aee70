package lex

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/aws/smithy-go"
	"github.com/tiger/lex-bot-tester/api/dialog"
)

// normalizeAWSError maps Lex API failures to dialog error kinds.
func normalizeAWSError(op string, err error) error {
	if errors.Is(err, context.Canceled) {
		return fmt.Errorf("%s: %w", op, err)
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return &dialog.TimeoutError{Cause: err}
	}

	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		detail := fmt.Sprintf("%s: %s: %s", op, apiErr.ErrorCode(), apiErr.ErrorMessage())
		switch apiErr.ErrorCode() {
		case "LimitExceededException", "InternalFailureException", "ServiceUnavailableException", "RequestTimeoutException", "ThrottlingException":
			return fmt.Errorf("%w: %s", dialog.ErrTransport, detail)
		case "NotFoundException", "UnrecognizedClientException", "AccessDeniedException", "InvalidSignatureException", "ExpiredTokenException":
			return fmt.Errorf("%w: %s", dialog.ErrConfiguration, detail)
		case "BadRequestException", "ConflictException", "DependencyFailedException", "BadGatewayException",
			"LoopDetectedException", "NotAcceptableException", "UnsupportedMediaTypeException":
			return &dialog.RemoteFailureError{Detail: detail}
		default:
			if apiErr.ErrorFault() == smithy.FaultServer {
				return fmt.Errorf("%w: %s", dialog.ErrTransport, detail)
			}
			return &dialog.RemoteFailureError{Detail: detail}
		}
	}

	return fmt.Errorf("%w: %s: %v", dialog.ErrTransport, op, err)
}

func defaultString(v string, fallback string) string {
	if strings.TrimSpace(v) == "" {
		return fallback
	}
	return v
}
