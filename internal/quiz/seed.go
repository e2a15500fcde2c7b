package quiz

import (
	"bytes"
	"context"
	"encoding/json"
	"io"

	"github.com/pkg/errors"
)

// DecodeDefinitions reads authored quizzes: either one definition object or
// an array of them.
func DecodeDefinitions(r io.Reader) ([]Definition, error) {
	raw, err := io.ReadAll(r)
	if err != nil {
		return nil, err
	}
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 {
		return nil, nil
	}

	if raw[0] == '[' {
		var defs []Definition
		if err := json.Unmarshal(raw, &defs); err != nil {
			return nil, errors.Wrap(err, "decode quiz list")
		}
		return defs, nil
	}

	var def Definition
	if err := json.Unmarshal(raw, &def); err != nil {
		return nil, errors.Wrap(err, "decode quiz")
	}
	return []Definition{def}, nil
}

// ImportAll imports every definition and stops at the first failure.
func (s *Service) ImportAll(ctx context.Context, defs []Definition) (int, error) {
	for idx, def := range defs {
		if _, err := s.ImportQuiz(ctx, def); err != nil {
			return idx, errors.Wrapf(err, "quiz %d (%s)", idx, def.ID)
		}
	}
	return len(defs), nil
}
