package app

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
	_ "time/tzdata"

	"resv_relay/internal/model"
)

const timeLayout = "2006-01-02T15:04"

type CommandKind int

const (
	CommandBook CommandKind = iota + 1
	CommandAccept
	CommandDecline
	CommandHelp
)

var ErrUnknownCommand = errors.New("unknown command, try /help")

const helpText = `/book <party size> <YYYY-MM-DDTHH:MM> <timezone> [note]   request a table
/accept [note]                                             accept the latest proposal
/decline [note]                                            decline the latest proposal`

type Command struct {
	Kind    CommandKind
	Request *model.ReservationRequest
	Note    string
}

// ParseCommand reads one line typed into the input field.
func ParseCommand(line string) (*Command, error) {
	fields := strings.Fields(line)
	if len(fields) == 0 {
		return nil, ErrUnknownCommand
	}
	rest := func(from int) string {
		if len(fields) <= from {
			return ""
		}
		return strings.Join(fields[from:], " ")
	}

	switch fields[0] {
	case "/book":
		if len(fields) < 4 {
			return nil, fmt.Errorf("usage: /book <party size> <%s> <timezone> [note]", timeLayout)
		}
		size, err := strconv.Atoi(fields[1])
		if err != nil {
			return nil, fmt.Errorf("party size %q: %w", fields[1], err)
		}
		loc, err := time.LoadLocation(fields[3])
		if err != nil {
			return nil, fmt.Errorf("timezone %q: %w", fields[3], err)
		}
		at, err := time.ParseInLocation(timeLayout, fields[2], loc)
		if err != nil {
			return nil, fmt.Errorf("time %q: %w", fields[2], err)
		}
		return &Command{
			Kind: CommandBook,
			Request: &model.ReservationRequest{
				PartySize: size,
				Slot:      model.Slot{Time: at.Unix(), TZID: fields[3]},
				Note:      rest(4),
			},
		}, nil
	case "/accept":
		return &Command{Kind: CommandAccept, Note: rest(1)}, nil
	case "/decline":
		return &Command{Kind: CommandDecline, Note: rest(1)}, nil
	case "/help":
		return &Command{Kind: CommandHelp}, nil
	}
	return nil, ErrUnknownCommand
}
