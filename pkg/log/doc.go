/*
Package log provides structured logging for Tusk on top of zerolog.

A single global Logger is configured once at process start with Init. Components
derive child loggers carrying a component, job or worker field:

	log.Init(log.Config{Level: log.InfoLevel, JSONOutput: true})

	logger := log.WithComponent("scheduler")
	logger.Info().Str("job_id", id).Str("worker_id", wid).Msg("Job assigned")

Until Init runs the global logger discards everything, so library code and tests
can log freely without configuring output.
*/
package log
