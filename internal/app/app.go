package app

import (
	"go.uber.org/fx"

	"github.com/Additional-Code/signups/internal/cache"
	"github.com/Additional-Code/signups/internal/commerce"
	"github.com/Additional-Code/signups/internal/config"
	"github.com/Additional-Code/signups/internal/customer"
	"github.com/Additional-Code/signups/internal/logger"
	"github.com/Additional-Code/signups/internal/messaging"
	"github.com/Additional-Code/signups/internal/notification"
	"github.com/Additional-Code/signups/internal/observability"
	"github.com/Additional-Code/signups/internal/relations"
	"github.com/Additional-Code/signups/internal/search"
	grpcserver "github.com/Additional-Code/signups/internal/server/grpc"
	httpserver "github.com/Additional-Code/signups/internal/server/http"
	servicesignup "github.com/Additional-Code/signups/internal/service/signup"
	"github.com/Additional-Code/signups/internal/signup"
	"github.com/Additional-Code/signups/internal/structure"
	transporthttp "github.com/Additional-Code/signups/internal/transport/http"
	"github.com/Additional-Code/signups/internal/worker"
	workersignup "github.com/Additional-Code/signups/internal/worker/signup"
)

// Core provides the foundational modules shared across executables.
var Core = fx.Options(
	config.Module,
	logger.Module,
	observability.Module,
	cache.Module,
	messaging.Module,
	relations.Module,
	search.Module,
	structure.Module,
	customer.Module,
	commerce.Module,
	signup.Module,
	notification.Module,
	servicesignup.Module,
)

// HTTP wires the HTTP and gRPC servers on top of the core modules.
var HTTP = fx.Options(
	Core,
	httpserver.Module,
	grpcserver.Module,
	transporthttp.Module,
)

// Worker exposes background worker processing.
var Worker = fx.Options(
	Core,
	worker.Module,
	workersignup.Module,
)

// Module is the default application wiring (HTTP only).
var Module = HTTP
