package main

import (
	"fmt"
	"os"

	"github.com/loykin/idlewatch/pkg/template"
)

// TemplateCreate writes a starter deployment config for a known worker type
func (c *command) TemplateCreate(f TemplateCreateFlags) error {
	// Determine output file path
	outputPath := f.Output
	if outputPath == "" {
		outputPath = f.Type + ".toml"
	}

	// Check if file already exists and force flag not set
	if _, err := os.Stat(outputPath); err == nil && !f.Force {
		return fmt.Errorf("template file '%s' already exists (use --force to overwrite)", outputPath)
	}

	// Generate template content based on type
	generator := template.NewGenerator()
	templateContent, err := generator.GenerateTOML(template.TemplateType(f.Type), f.Name)
	if err != nil {
		return fmt.Errorf("failed to generate template: %w", err)
	}

	// Write template file
	if err := os.WriteFile(outputPath, templateContent, 0o644); err != nil {
		return fmt.Errorf("failed to write template file: %w", err)
	}

	fmt.Printf("Template created: %s\n", outputPath)
	fmt.Printf("Edit it and start supervising with: idlewatch run --config %s\n", outputPath)
	return nil
}
