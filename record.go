package loadpipe

import (
	"bytes"
	"encoding/csv"

	"github.com/pkg/errors"
)

// recordParser checks input lines and turns them into the payload that is
// appended to a batch.
type recordParser struct {
	delim    rune
	expected int
	reencode bool
}

func newRecordParser(cfg *Config) (*recordParser, error) {
	delim, err := cfg.DelimiterRune()
	if err != nil {
		return nil, err
	}
	return &recordParser{
		delim:    delim,
		expected: cfg.ExpectedFields,
		reencode: cfg.Reencode,
	}, nil
}

// parse returns the payload for one newline-terminated line. Without
// reencoding the payload is the line itself. Lines are only split when a
// field count is expected or they are reencoded.
func (p *recordParser) parse(line []byte) ([]byte, error) {
	if p.expected == 0 && !p.reencode {
		return line, nil
	}
	fields, err := p.split(line)
	if err != nil {
		return nil, errors.Wrap(ErrMalformedRecord, err.Error())
	}
	if p.expected > 0 && len(fields) != p.expected {
		return nil, errors.Wrapf(ErrMalformedRecord, "want %d fields, got %d", p.expected, len(fields))
	}
	if !p.reencode {
		return line, nil
	}
	var buf bytes.Buffer
	w := csv.NewWriter(&buf)
	if err := w.Write(fields); err != nil {
		return nil, errors.Wrap(err, "reencode record")
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return nil, errors.Wrap(err, "reencode record")
	}
	return buf.Bytes(), nil
}

func (p *recordParser) split(line []byte) ([]string, error) {
	trimmed := bytes.TrimRight(line, "\r\n")
	if len(trimmed) == 0 {
		if p.expected > 0 {
			return nil, errors.New("empty line")
		}
		return []string{""}, nil
	}
	if p.delim == '\t' {
		parts := bytes.Split(trimmed, []byte{'\t'})
		fields := make([]string, len(parts))
		for i := range parts {
			fields[i] = string(parts[i])
		}
		return fields, nil
	}
	r := csv.NewReader(bytes.NewReader(trimmed))
	r.Comma = p.delim
	r.FieldsPerRecord = -1
	fields, err := r.Read()
	if err != nil {
		return nil, err
	}
	return fields, nil
}
