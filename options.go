package novaport

import (
	"io"
	"log/slog"
)

// Option configures an App.
type Option func(*resolvedOptions)

// resolvedOptions holds all overrides after applying options.
// Unexported: callers use the With* functions.
type resolvedOptions struct {
	httpAddr          *string
	dataDirName       string
	logger            *slog.Logger
	version           string
	embeddingProvider EmbeddingProvider
	stdin             io.Reader
	stdout            io.Writer
}

// WithHTTPAddr serves the streamable HTTP transport on addr instead of stdio
// (NOVAPORT_HTTP_ADDR env var). An empty addr forces stdio.
func WithHTTPAddr(addr string) Option {
	return func(o *resolvedOptions) { o.httpAddr = &addr }
}

// WithDataDirName overrides the directory created inside each workspace
// (NOVAPORT_DATA_DIRNAME env var).
func WithDataDirName(name string) Option {
	return func(o *resolvedOptions) { o.dataDirName = name }
}

// WithLogger sets the structured logger for the App.
// If not set, the default slog logger is used. In stdio mode the logger must
// not write to stdout.
func WithLogger(logger *slog.Logger) Option {
	return func(o *resolvedOptions) { o.logger = logger }
}

// WithVersion sets the version string reported to MCP clients and by the
// health endpoint.
func WithVersion(version string) Option {
	return func(o *resolvedOptions) { o.version = version }
}

// WithEmbeddingProvider replaces the configured embedding provider. The
// configured dimensions follow p.Dimensions().
func WithEmbeddingProvider(p EmbeddingProvider) Option {
	return func(o *resolvedOptions) { o.embeddingProvider = p }
}

// WithStdio sets the streams used by the stdio transport. Defaults to
// os.Stdin and os.Stdout.
func WithStdio(in io.Reader, out io.Writer) Option {
	return func(o *resolvedOptions) {
		o.stdin = in
		o.stdout = out
	}
}
