// Package logging builds the zap.Logger shared by both binaries.
package logging

import "go.uber.org/zap"

// New builds a production logger unless dev requests the more
// human-readable development encoder config.
func New(dev bool) (*zap.Logger, error) {
	if dev {
		return zap.NewDevelopment()
	}
	return zap.NewProduction()
}
