// Package notify ships kennelguard.Notifier implementations.
//
// LogNotifier writes each message as a zap log line and suits local
// development, where the reset link is read from the console. RedisStream
// appends messages to a Redis stream for a separate mail worker to consume.
// Neither retries; the engine logs a failed send and moves on.
package notify
