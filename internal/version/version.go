// Package version extracts the build metadata embedded in the binary,
// backing the syncctl version subcommand.
package version

import (
	"runtime/debug"
)

const (
	snowflakeDriverModule = "github.com/snowflakedb/gosnowflake"
	redisClientModule     = "github.com/redis/go-redis/v9"
	neo4jDriverModule     = "github.com/neo4j/neo4j-go-driver/v5"
)

// Info is the build metadata reported by the version subcommand: the module
// itself plus the resolved versions of the warehouse and graph drivers it
// was linked against, since those are what an operator debugging a wire
// issue needs to know.
type Info struct {
	GoVersion       string `json:"goVersion"`
	MainModule      string `json:"mainModule"`
	MainVersion     string `json:"mainVersion"`
	SnowflakeDriver string `json:"snowflakeDriver,omitempty"`
	FalkorDBClient  string `json:"falkordbClient,omitempty"`
	Neo4jDriver     string `json:"neo4jDriver,omitempty"`
}

// Get reads the running binary's build information via runtime/debug.
func Get() Info {
	out := Info{GoVersion: "unknown", MainModule: "unknown", MainVersion: "unknown"}

	info, ok := debug.ReadBuildInfo()
	if !ok {
		return out
	}
	out.GoVersion = info.GoVersion
	out.MainModule = info.Path
	out.MainVersion = info.Main.Version

	for _, dep := range info.Deps {
		v := dep.Version
		if dep.Replace != nil {
			v = dep.Replace.Path + "@" + dep.Replace.Version
		}
		switch dep.Path {
		case snowflakeDriverModule:
			out.SnowflakeDriver = v
		case redisClientModule:
			out.FalkorDBClient = v
		case neo4jDriverModule:
			out.Neo4jDriver = v
		}
	}
	return out
}
