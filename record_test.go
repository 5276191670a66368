package loadpipe

import (
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRecordParserPassThrough(t *testing.T) {
	p := &recordParser{delim: ','}
	lines := []string{"a,b,c\n", "\"quoted, field\",2\n", "single\n", "\n", "crlf,line\r\n",
		"5,12\" pipe\n", "\"unterminated,1\n"}
	for _, line := range lines {
		payload, err := p.parse([]byte(line))
		require.NoError(t, err, line)
		assert.Equal(t, line, string(payload))
	}
}

func TestRecordParserExpectedFields(t *testing.T) {
	p := &recordParser{delim: ',', expected: 3}
	_, err := p.parse([]byte("1,2,3\n"))
	assert.NoError(t, err)

	for _, line := range []string{"1,2\n", "1,2,3,4\n", "\n"} {
		_, err := p.parse([]byte(line))
		assert.True(t, errors.Is(err, ErrMalformedRecord), line)
	}

	p = &recordParser{delim: '\t', expected: 2}
	_, err = p.parse([]byte("a,b\tc\n"))
	assert.NoError(t, err)
	_, err = p.parse([]byte("a\tb\tc\n"))
	assert.True(t, errors.Is(err, ErrMalformedRecord))
}

func TestRecordParserBadQuoting(t *testing.T) {
	p := &recordParser{delim: ',', expected: 2}
	_, err := p.parse([]byte("\"unterminated,1\n"))
	assert.True(t, errors.Is(err, ErrMalformedRecord))
}

func TestRecordParserReencode(t *testing.T) {
	p := &recordParser{delim: '\t', reencode: true}
	payload, err := p.parse([]byte("1\thello world\tsay \"hi\"\n"))
	require.NoError(t, err)
	assert.Equal(t, "1,hello world,\"say \"\"hi\"\"\"\n", string(payload))

	p = &recordParser{delim: ',', reencode: true}
	payload, err = p.parse([]byte("\"a\",b\r\n"))
	require.NoError(t, err)
	assert.Equal(t, "a,b\n", string(payload))
}

func TestNewRecordParser(t *testing.T) {
	cfg := NewConfig()
	cfg.Delimiter = "tab"
	cfg.ExpectedFields = 4
	p, err := newRecordParser(cfg)
	require.NoError(t, err)
	assert.Equal(t, '\t', p.delim)
	assert.Equal(t, 4, p.expected)

	cfg.Delimiter = "pipe"
	_, err = newRecordParser(cfg)
	assert.Error(t, err)
}
