// Command server is the reference Lambda function: the demo application
// behind the streaming runtime shim.
package main

import (
	"kit-adapter-aws/internal/app"
	"kit-adapter-aws/internal/config"
	"kit-adapter-aws/pkg/server"
)

func main() {
	server.Start(app.New(), server.StartOptions{
		ManifestPath: config.GetEnv("MANIFEST_PATH", ""),
	})
}
