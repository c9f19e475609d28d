// Package admin exposes the operator command surface over HTTP. Textual
// commands are translated into typed values at the boundary; handlers only
// ever see validated parameters.
package admin

import (
	"fmt"
	"net/url"
	"strconv"
	"time"

	"github.com/topomesh/surveyd/identity"
)

// InvalidCommandError indicates an admin command failed validation and will
// not be processed.
type InvalidCommandError struct {
	Err error
}

func (e InvalidCommandError) Error() string {
	return e.Err.Error()
}

// NewInvalidCommandParameterError flags one bad parameter value.
func NewInvalidCommandParameterError(field, msg string, actual any) InvalidCommandError {
	return InvalidCommandError{Err: fmt.Errorf("invalid value for %q: %s, got: %v", field, msg, actual)}
}

// SurveyTopologyCommand starts or extends a survey session targeting Node.
type SurveyTopologyCommand struct {
	Node     identity.NodeID
	Duration time.Duration
}

func parseSurveyTopologyCommand(query url.Values) (*SurveyTopologyCommand, error) {
	rawDuration := query.Get("duration")
	seconds, err := strconv.Atoi(rawDuration)
	if err != nil || seconds <= 0 {
		return nil, NewInvalidCommandParameterError("duration", "must be a positive integer of seconds", rawDuration)
	}

	rawNode := query.Get("node")
	node, err := identity.NodeIDFromString(rawNode)
	if err != nil {
		return nil, NewInvalidCommandParameterError("node", "must be a node id string", rawNode)
	}

	return &SurveyTopologyCommand{
		Node:     node,
		Duration: time.Duration(seconds) * time.Second,
	}, nil
}

// ArchiveQueryCommand lists recently archived survey answers.
type ArchiveQueryCommand struct {
	Limit int
}

const defaultArchiveQueryLimit = 50

func parseArchiveQueryCommand(query url.Values) (*ArchiveQueryCommand, error) {
	raw := query.Get("limit")
	if raw == "" {
		return &ArchiveQueryCommand{Limit: defaultArchiveQueryLimit}, nil
	}
	limit, err := strconv.Atoi(raw)
	if err != nil || limit <= 0 {
		return nil, NewInvalidCommandParameterError("limit", "must be a positive integer", raw)
	}
	return &ArchiveQueryCommand{Limit: limit}, nil
}
