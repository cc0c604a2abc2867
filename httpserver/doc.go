/*
Package httpserver runs the controller's HTTP API.

The server mounts route handlers, such as the controller's peer protocol
handler, behind the flashbots request logging middleware and adds the
operational endpoints:

	GET /livez    liveness probe
	GET /readyz   readiness probe, 503 while draining
	GET /drain    mark the server not ready so load balancers stop routing to it
	GET /undrain  mark the server ready again

Prometheus metrics are exposed on a separate listener at /metrics, and pprof
can be mounted under /debug.

# Example Usage

	srv, err := httpserver.New(&httpserver.HTTPServerConfig{
	    ListenAddr:               ":8080",
	    MetricsAddr:              ":8090",
	    Log:                      logger,
	    DrainDuration:            10 * time.Second,
	    GracefulShutdownDuration: 30 * time.Second,
	}, metricsSrv, handler)
	if err != nil {
	    return err
	}
	srv.RunInBackground()
	defer srv.Shutdown()
*/
package httpserver
