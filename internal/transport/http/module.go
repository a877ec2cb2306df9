package http

import (
	"go.uber.org/fx"

	signuptransport "github.com/Additional-Code/signups/internal/transport/http/signup"
)

// Module aggregates all HTTP transport handlers.
var Module = fx.Options(
	signuptransport.Module,
)
