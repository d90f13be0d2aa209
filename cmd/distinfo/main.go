package main

import (
	"context"
	"io"
	"strings"

	"github.com/couchbase/stellar-distributed/common/distconfig"
	"github.com/couchbase/stellar-distributed/distributed"
	"github.com/couchbase/stellar-distributed/pkg/version"
	"github.com/pkg/errors"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetricgrpc"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/exporters/prometheus"
	"go.opentelemetry.io/otel/propagation"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.4.0"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

var rootCmd = &cobra.Command{
	Version: version.WithRevision(),

	Use:   "distinfo",
	Short: "Inspects the distributed group this task is a member of",

	SilenceUsage: true,
}

var cfgFile string
var watchCfgFile bool

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "specifies a config file to load")
	rootCmd.PersistentFlags().BoolVar(&watchCfgFile, "watch-config", false, "indicates whether to watch the config file for changes (serve only)")

	configFlags := pflag.NewFlagSet("", pflag.ContinueOnError)
	configFlags.String("log-level", "info", "the log level to run at")
	configFlags.String("config-dir", distconfig.DefaultConfigDir, "the directory containing the distributed config")
	configFlags.Bool("strict", false, "require every rank up to the required count to be present")
	configFlags.String("otlp-endpoint", "", "opentelemetry endpoint to send telemetry to")
	configFlags.Bool("disable-otlp-traces", false, "disable sending traces to otlp")
	configFlags.Bool("disable-otlp-metrics", false, "disable sending metrics to otlp")
	configFlags.Bool("debug", false, "enable debug mode")
	rootCmd.PersistentFlags().AddFlagSet(configFlags)

	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.SetEnvPrefix("vh")
	viper.AutomaticEnv()

	_ = viper.BindPFlags(configFlags)

	rootCmd.AddCommand(
		validateCmd,
		membersCmd,
		hostsCmd,
		rendezvousCmd,
		tfConfigCmd,
		sshPlanCmd,
		serveCmd,
	)
}

func getLogger(w io.Writer) (zap.AtomicLevel, *zap.Logger) {
	logLevel := zap.NewAtomicLevel()
	logConfig := zap.NewProductionEncoderConfig()
	logConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	jsonEncoder := zapcore.NewJSONEncoder(logConfig)
	core := zapcore.NewTee(
		zapcore.NewCore(jsonEncoder, zapcore.AddSync(w), logLevel),
	)
	logger := zap.New(core, zap.AddCaller(), zap.AddStacktrace(zapcore.ErrorLevel))

	return logLevel, logger
}

type config struct {
	logLevelStr        string
	configDir          string
	strict             bool
	otlpEndpoint       string
	disableOtlpTraces  bool
	disableOtlpMetrics bool
	debug              bool
	bindAddress        string
	webPort            int
}

func readConfig(logger *zap.Logger) *config {
	config := &config{
		logLevelStr:        viper.GetString("log-level"),
		configDir:          viper.GetString("config-dir"),
		strict:             viper.GetBool("strict"),
		otlpEndpoint:       viper.GetString("otlp-endpoint"),
		disableOtlpTraces:  viper.GetBool("disable-otlp-traces"),
		disableOtlpMetrics: viper.GetBool("disable-otlp-metrics"),
		debug:              viper.GetBool("debug"),
		bindAddress:        viper.GetString("bind-address"),
		webPort:            viper.GetInt("web-port"),
	}

	logger.Debug("parsed distinfo configuration",
		zap.String("logLevelStr", config.logLevelStr),
		zap.String("configDir", config.configDir),
		zap.Bool("strict", config.strict),
		zap.String("otlpEndpoint", config.otlpEndpoint),
		zap.Bool("disableOtlpTraces", config.disableOtlpTraces),
		zap.Bool("disableOtlpMetrics", config.disableOtlpMetrics),
		zap.Bool("debug", config.debug),
		zap.String("bindAddress", config.bindAddress),
		zap.Int("webPort", config.webPort))

	return config
}

func parseLogLevel(logger *zap.Logger, levelStr string) zapcore.Level {
	parsedLogLevel, err := zapcore.ParseLevel(levelStr)
	if err != nil {
		logger.Warn("invalid log level specified, using INFO instead")
		parsedLogLevel = zapcore.InfoLevel
	}
	return parsedLogLevel
}

type runtimeState struct {
	logLevel zap.AtomicLevel
	logger   *zap.Logger
	config   *config
	resolver *distributed.Resolver
}

func setupRuntime(cmd *cobra.Command) (*runtimeState, error) {
	logLevel, logger := getLogger(cmd.ErrOrStderr())

	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
		err := viper.ReadInConfig()
		if err != nil {
			return nil, errors.Wrap(err, "failed to load specified config file")
		}
	}

	config := readConfig(logger)
	logLevel.SetLevel(parseLogLevel(logger, config.logLevelStr))

	resolver := distributed.NewResolver(distributed.ResolverOptions{
		Logger:          logger.Named("resolver"),
		ConfigDir:       config.configDir,
		RequireComplete: config.strict,
	})

	return &runtimeState{
		logLevel: logLevel,
		logger:   logger,
		config:   config,
		resolver: resolver,
	}, nil
}

func initTelemetry(
	ctx context.Context,
	logger *zap.Logger,
	otlpEndpoint string,
	enableTraces bool,
	enableMetrics bool,
) (
	*sdktrace.TracerProvider,
	*sdkmetric.MeterProvider,
	error,
) {
	res, err := resource.New(ctx,
		resource.WithFromEnv(),
		resource.WithProcess(),
		resource.WithTelemetrySDK(),
		resource.WithHost(),
		resource.WithAttributes(
			semconv.ServiceNameKey.String("stellar-distributed"),
		),
	)
	if err != nil {
		if res == nil {
			return nil, nil, err
		}

		logger.Warn("failed to setup some part of opentelemetry resource", zap.Error(err))
	}

	promExp, err := prometheus.New()
	if err != nil {
		return nil, nil, err
	}

	var meterProvider *sdkmetric.MeterProvider
	if !enableMetrics || otlpEndpoint == "" {
		meterProvider = sdkmetric.NewMeterProvider(
			sdkmetric.WithResource(res),
			sdkmetric.WithReader(promExp),
		)
	} else {
		metricExp, err := otlpmetricgrpc.New(
			ctx,
			otlpmetricgrpc.WithInsecure(),
			otlpmetricgrpc.WithEndpoint(otlpEndpoint))
		if err != nil {
			return nil, nil, err
		}

		meterProvider = sdkmetric.NewMeterProvider(
			sdkmetric.WithResource(res),
			sdkmetric.WithReader(promExp),
			sdkmetric.WithReader(
				sdkmetric.NewPeriodicReader(
					metricExp,
				),
			),
		)
	}

	var tracerProvider *sdktrace.TracerProvider
	if enableTraces && otlpEndpoint != "" {
		traceClient := otlptracegrpc.NewClient(
			otlptracegrpc.WithInsecure(),
			otlptracegrpc.WithEndpoint(otlpEndpoint))
		traceExp, err := otlptrace.New(ctx, traceClient)
		if err != nil {
			return nil, nil, err
		}

		bsp := sdktrace.NewBatchSpanProcessor(traceExp)
		tracerProvider = sdktrace.NewTracerProvider(
			sdktrace.WithSampler(sdktrace.ParentBased(sdktrace.AlwaysSample())),
			sdktrace.WithResource(res),
			sdktrace.WithSpanProcessor(bsp),
		)
	}

	return tracerProvider, meterProvider, nil
}

func installTelemetry(ctx context.Context, rt *runtimeState) (func(context.Context), error) {
	tracerProvider, meterProvider, err := initTelemetry(ctx,
		rt.logger,
		rt.config.otlpEndpoint,
		!rt.config.disableOtlpTraces,
		!rt.config.disableOtlpMetrics)
	if err != nil {
		return nil, err
	}

	if tracerProvider != nil {
		otel.SetTracerProvider(tracerProvider)
		otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(propagation.TraceContext{}, propagation.Baggage{}))
	}
	otel.SetMeterProvider(meterProvider)

	return func(ctx context.Context) {
		if tracerProvider != nil {
			err := tracerProvider.Shutdown(ctx)
			if err != nil {
				rt.logger.Warn("failed to shutdown tracer provider", zap.Error(err))
			}
		}

		err := meterProvider.Shutdown(ctx)
		if err != nil {
			rt.logger.Warn("failed to shutdown meter provider", zap.Error(err))
		}
	}, nil
}

func main() {
	cobra.CheckErr(rootCmd.Execute())
}
