package cmd

import (
	"strings"
	"time"
)

const defaultPathTemplate = "checksumo/{YYYY}/{MM}/{DD}/{mode}-{run}"

// PathTemplate generates report keys from templates
type PathTemplate struct {
	template string
}

// NewPathTemplate creates a new PathTemplate instance
func NewPathTemplate(template string) *PathTemplate {
	return &PathTemplate{template: template}
}

// Generate replaces placeholders in the template with actual values
// Supports: {mode}, {run}, {YYYY}, {MM}, {DD}, {HH}
func (pt *PathTemplate) Generate(mode string, runID string, timestamp time.Time) string {
	result := pt.template

	result = strings.ReplaceAll(result, "{mode}", mode)
	result = strings.ReplaceAll(result, "{run}", runID)

	result = strings.ReplaceAll(result, "{YYYY}", timestamp.Format("2006"))
	result = strings.ReplaceAll(result, "{MM}", timestamp.Format("01"))
	result = strings.ReplaceAll(result, "{DD}", timestamp.Format("02"))
	result = strings.ReplaceAll(result, "{HH}", timestamp.Format("15"))

	return result
}

// GenerateFilename appends the format and compression extensions to a generated key
func (pt *PathTemplate) GenerateFilename(mode string, runID string, timestamp time.Time, formatExt string, compressionExt string) string {
	filename := pt.Generate(mode, runID, timestamp) + formatExt

	if compressionExt != "" {
		filename += compressionExt
	}

	return filename
}
