package tracing

import (
	"fmt"
	"io"

	"github.com/opentracing/opentracing-go"
	"github.com/pkg/errors"
	jCfg "github.com/uber/jaeger-client-go/config"
	"github.com/uber/jaeger-lib/metrics"
	"go.uber.org/zap"
)

var (
	serviceName = "quantbot"
)

func SetServiceName(newName string) string {
	oldName := serviceName
	serviceName = newName

	return oldName
}

type Config struct {
	Host string
	Port int
}

func (c Config) agent() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

func configuration(conf Config) *jCfg.Configuration {
	return &jCfg.Configuration{
		ServiceName: serviceName,
		Sampler: &jCfg.SamplerConfig{
			Type:  "const",
			Param: 1,
		},
		Reporter: &jCfg.ReporterConfig{
			LogSpans:           true,
			LocalAgentHostPort: conf.agent(),
		},
	}
}

// InitTracer installs a Jaeger tracer as the global opentracing tracer. The
// returned func flushes and closes it.
func InitTracer(conf Config, logger *zap.Logger) (opentracing.Tracer, func(), error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	tracer, closer, err := configuration(conf).NewTracer(
		jCfg.Metrics(metrics.NullFactory),
	)
	if err != nil {
		return nil, nil, errors.Wrap(err, "init jaeger tracer")
	}

	opentracing.SetGlobalTracer(tracer)
	logger.Info("tracing enabled", zap.String("agent", conf.agent()))
	return tracer, closeFunc(closer, logger), nil
}

func closeFunc(closer io.Closer, logger *zap.Logger) func() {
	return func() {
		if err := closer.Close(); err != nil {
			logger.Error("closing jaeger tracer", zap.Error(err))
		}
	}
}
