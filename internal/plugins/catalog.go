// Package plugins holds the built-in strategies compiled into weaverd.
// Dynamically loading arbitrary third-party Go code at runtime (a real Go
// plugin system) is impractical across toolchain/version boundaries, so
// concrete strategies are compiled in and registered here; discovery of a
// PluginDir's source-only metadata (internal/pluginloader.Discover) is a
// separate, complementary step used to validate a deployment's declared
// dependency graph before any run starts.
package plugins

import (
	"github.com/weaver-engine/weaver/internal/pluginloader"
	"github.com/weaver-engine/weaver/internal/plugins/smacross"
)

// RegisterBuiltins registers every compiled-in strategy with reg.
func RegisterBuiltins(reg *pluginloader.Registry) {
	reg.Register(smacross.PluginMetadata, smacross.New)
}
