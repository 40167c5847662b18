// Package log provides the logging abstraction used across edgeship.
//
// Components accept the Logger interface so the agent can run with the
// zerolog adapter in production and NoopLogger in tests:
//
//	logger, err := log.NewZerologAdapterFor(os.Stderr, log.FormatJSON, "debug")
//	if err != nil {
//	    return err
//	}
//	logger.Info("outbox opened", log.String("path", path))
//
// Raw serial payloads should be logged with Bytes so escape bytes and
// carriage returns are quoted instead of corrupting terminal output.
package log
