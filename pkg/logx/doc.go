// Package logx provides structured logging for the delivery service.
//
// It wraps zerolog behind a small Logger value so services can hold a logger
// that stays live across runtime config reloads (Service.Apply).
package logx
