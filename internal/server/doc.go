package server

// Layout:
//
//   - server.Manager creates the control server on server.host:server.port
//   - ControlProvider adds /api/... behind the control token
//   - MetricsProvider adds /metrics
//   - EventsProvider adds /ws/events, on the control server or, when
//     server.events_port is set, on a server of its own
//   - /health and /status are answered on every server
//
// Configuration:
//
//   LINKSHARE_SERVER_PORT=7878
//   LINKSHARE_SERVER_EVENTS_PORT=0     (0 = share the control port)
//   LINKSHARE_SERVER_CONTROL_TOKEN=... (generated and logged when unset)
//
// Usage:
//
//   mgr := server.NewManager(server.ServerConfigFrom(cfg, handlers.Status), logger)
//   mgr.AddProvider(server.NewControlProvider(handlers))
//   mgr.AddProvider(server.NewMetricsProvider(registry))
//   mgr.AddProvider(server.NewEventsProvider(wsManager))
//   mgr.Start(ctx)
