// Package services implements the storefront operations on top of the repositories.
// Client-facing failures are returned as *apperr.Error; anything else is an internal fault.
package services

import (
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

var tracer = otel.Tracer("github.com/storefront/checkout-api/internal/services")

func recordSpanError(span trace.Span, err error) {
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
}
