package store

import (
	"errors"
	"fmt"
	"unicode"
)

// Graph input bounds. Oversized or malformed input is rejected at the
// adapter with ErrGraphValidation before any write is issued; descriptions
// are truncated rather than rejected.
const (
	maxEntityNameLen  = 100
	maxEntityTypeLen  = 50
	maxDescriptionLen = 1000
)

// ErrGraphValidation marks a graph write rejected for invalid input, so
// callers can tell bad input apart from a store failure.
var ErrGraphValidation = errors.New("store: invalid graph input")

func validateEntityName(name string) error {
	if name == "" {
		return fmt.Errorf("%w: empty entity name", ErrGraphValidation)
	}
	if len(name) > maxEntityNameLen {
		return fmt.Errorf("%w: entity name exceeds %d bytes", ErrGraphValidation, maxEntityNameLen)
	}
	if hasIllegalChars(name) {
		return fmt.Errorf("%w: entity name contains control characters", ErrGraphValidation)
	}
	return nil
}

func validateEntityType(typ string) error {
	if len(typ) > maxEntityTypeLen {
		return fmt.Errorf("%w: entity type exceeds %d bytes", ErrGraphValidation, maxEntityTypeLen)
	}
	if hasIllegalChars(typ) {
		return fmt.Errorf("%w: entity type contains control characters", ErrGraphValidation)
	}
	return nil
}

// truncateDescription bounds the description without failing the write.
func truncateDescription(description string) string {
	if len(description) > maxDescriptionLen {
		return description[:maxDescriptionLen]
	}
	return description
}

func hasIllegalChars(s string) bool {
	for _, r := range s {
		if unicode.IsControl(r) {
			return true
		}
	}
	return false
}

// validateNode checks node input and returns the node with its
// description bounded.
func validateNode(node GraphNode) (GraphNode, error) {
	if err := validateEntityName(node.Name); err != nil {
		return GraphNode{}, err
	}
	if err := validateEntityType(node.Type); err != nil {
		return GraphNode{}, err
	}
	node.Description = truncateDescription(node.Description)
	return node, nil
}

// validateEdge checks both endpoint names of an edge.
func validateEdge(edge GraphEdge) error {
	if err := validateEntityName(edge.From); err != nil {
		return err
	}
	return validateEntityName(edge.To)
}
