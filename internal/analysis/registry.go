package analysis

import (
	"fmt"

	"github.com/ivlev/beat2video/internal/config"
)

// NewAnalyzer creates an analyzer based on the configured variant
func NewAnalyzer(cfg config.Analyzer, analysisPath string) (Analyzer, error) {
	switch cfg.Variant {
	case "file", "":
		return NewFileAnalyzer(analysisPath), nil
	case "command":
		if len(cfg.Command) == 0 {
			return nil, fmt.Errorf("analyzer variant command needs analyzer.command")
		}
		return NewCommandAnalyzer(cfg.Command), nil
	default:
		return nil, fmt.Errorf("unknown analyzer variant: %s", cfg.Variant)
	}
}
