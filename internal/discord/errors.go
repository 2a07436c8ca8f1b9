package discord

import (
	"errors"
	"fmt"
	"net/http"

	"server-warden/internal/moderation"
	"server-warden/pkg/retrylimit"

	"github.com/bwmarrin/discordgo"
)

// restError exposes a discordgo REST failure to retrylimit's HTTP classifiers.
type restError struct {
	err  *discordgo.RESTError
	code int
}

func (e *restError) Error() string   { return e.err.Error() }
func (e *restError) Unwrap() error   { return e.err }
func (e *restError) StatusCode() int { return e.code }

var _ retrylimit.HTTPError = (*restError)(nil)

// goneCodes are JSON error codes meaning the target was already removed.
var goneCodes = map[int]bool{
	discordgo.ErrCodeUnknownMember:  true,
	discordgo.ErrCodeUnknownBan:     true,
	discordgo.ErrCodeUnknownRole:    true,
	discordgo.ErrCodeUnknownUser:    true,
	discordgo.ErrCodeUnknownChannel: true,
}

// classify prepares a REST error for retry: gone targets wrap moderation.ErrGone,
// other client errors are fatal, rate limits and server errors stay retryable.
func classify(err error) error {
	if err == nil {
		return nil
	}
	var re *discordgo.RESTError
	if !errors.As(err, &re) {
		return err
	}
	status := 0
	if re.Response != nil {
		status = re.Response.StatusCode
	}
	wrapped := &restError{err: re, code: status}

	if re.Message != nil && goneCodes[re.Message.Code] {
		return retrylimit.Fatal(fmt.Errorf("%w: %w", moderation.ErrGone, wrapped))
	}
	switch {
	case status == http.StatusNotFound:
		return retrylimit.Fatal(fmt.Errorf("%w: %w", moderation.ErrGone, wrapped))
	case status == http.StatusTooManyRequests, status >= 500:
		return wrapped
	case status >= 400:
		return retrylimit.Fatal(wrapped)
	}
	return wrapped
}

func isGone(err error) bool {
	return errors.Is(classify(err), moderation.ErrGone)
}

func isRateLimited(err error) bool {
	var he retrylimit.HTTPError
	return errors.As(classify(err), &he) && he.StatusCode() == http.StatusTooManyRequests
}
