package mailsource

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/emersion/go-mbox"
	"github.com/rs/zerolog"

	"github.com/lueurxax/profilewatch/internal/core/domain"
	"github.com/lueurxax/profilewatch/internal/platform/observability"
)

// maxMessageBytes caps how much of a single message is read.
const maxMessageBytes = 16 << 20

// MboxSource reads messages from an mbox file on every scan.
type MboxSource struct {
	path   string
	logger *zerolog.Logger
}

// NewMbox returns a source for the mailbox at path.
func NewMbox(path string, logger *zerolog.Logger) *MboxSource {
	return &MboxSource{path: path, logger: nopIfNil(logger)}
}

// Name returns the mailbox path.
func (s *MboxSource) Name() string {
	return s.path
}

// Scan parses the mailbox and yields every readable message. Messages that
// cannot be parsed are skipped and counted. An error is returned when the
// file cannot be opened or read, when ctx is done or when fn fails.
func (s *MboxSource) Scan(ctx context.Context, fn func(domain.Message) error) error {
	f, err := os.Open(s.path)
	if err != nil {
		return fmt.Errorf("open mailbox: %w", err)
	}

	defer func() {
		if cerr := f.Close(); cerr != nil {
			s.logger.Warn().Err(cerr).Str(logFieldPath, s.path).Msg("failed to close mailbox")
		}
	}()

	reader := mbox.NewReader(f)

	for index := 0; ; index++ {
		if err := ctx.Err(); err != nil {
			return err
		}

		r, err := reader.NextMessage()
		if errors.Is(err, io.EOF) {
			return nil
		}

		if err != nil {
			return fmt.Errorf("read mailbox %s: %w", s.path, err)
		}

		msg, err := parseMessage(io.LimitReader(r, maxMessageBytes))
		if err != nil {
			observability.SourceSkippedMessages.WithLabelValues(s.path).Inc()
			s.logger.Debug().Err(err).Str(logFieldPath, s.path).Int(logFieldIndex, index).Msg("skipping unparsable message")

			continue
		}

		msg.Source = s.path
		if msg.ID == "" {
			msg.ID = "#" + strconv.Itoa(index)
		}

		if err := fn(msg); err != nil {
			return err
		}
	}
}

func trimMessageID(id string) string {
	return strings.TrimSpace(strings.Trim(strings.TrimSpace(id), "<>"))
}
