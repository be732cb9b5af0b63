package engagement

import (
	"fmt"
	"strings"
	"time"
)

const (
	MinPollOptions = 2
	MaxPollOptions = 10
)

// PollOption is one choice of a poll together with who picked it.
type PollOption struct {
	Text   string   `json:"text" bson:"text"`
	Votes  int      `json:"votes" bson:"votes"`
	Voters []string `json:"voters" bson:"voters"`
}

// Poll is embedded in at most one post.
//
// Ballots indexes every voter to the option indexes chosen in their single
// vote call. Its keys are exactly the users present in any Voters list.
type Poll struct {
	Question           string           `json:"question" bson:"question"`
	Options            []PollOption     `json:"options" bson:"options"`
	AllowMultipleVotes bool             `json:"allowMultipleVotes" bson:"allow_multiple_votes"`
	EndDate            *time.Time       `json:"endDate,omitempty" bson:"end_date,omitempty"`
	IsActive           bool             `json:"isActive" bson:"is_active"`
	TotalVotes         int              `json:"totalVotes" bson:"total_votes"`
	Ballots            map[string][]int `json:"ballots" bson:"ballots"`
	CreatedAt          time.Time        `json:"createdAt" bson:"created_at"`
}

// PollSpec is the input for creating a poll.
type PollSpec struct {
	Question           string
	Options            []string
	AllowMultipleVotes bool
	EndDate            *time.Time
}

// PollPatch carries the fields an update may touch. Nil fields are left as is;
// ClearEndDate removes an existing end date.
type PollPatch struct {
	Question           *string
	Options            []string
	AllowMultipleVotes *bool
	IsActive           *bool
	EndDate            *time.Time
	ClearEndDate       bool
}

func validateQuestion(op, q string) (string, error) {
	q = strings.TrimSpace(q)
	if q == "" {
		return "", validation(op, "question is required")
	}
	return q, nil
}

func buildOptions(op string, texts []string) ([]PollOption, error) {
	if len(texts) < MinPollOptions || len(texts) > MaxPollOptions {
		return nil, validation(op, fmt.Sprintf("a poll needs between %d and %d options, got %d", MinPollOptions, MaxPollOptions, len(texts)))
	}
	out := make([]PollOption, len(texts))
	for i, t := range texts {
		t = strings.TrimSpace(t)
		if t == "" {
			return nil, validation(op, fmt.Sprintf("option %d is empty", i))
		}
		out[i] = PollOption{Text: t, Voters: []string{}}
	}
	return out, nil
}

func validateEndDate(op string, end *time.Time, now time.Time) error {
	if end != nil && !end.After(now) {
		return validation(op, "endDate must be in the future")
	}
	return nil
}

// Open reports whether the poll accepts votes at now.
func (p *Poll) Open(now time.Time) bool {
	if !p.IsActive {
		return false
	}
	return p.EndDate == nil || now.Before(*p.EndDate)
}

// Ended reports whether now is past the end date.
func (p *Poll) Ended(now time.Time) bool {
	return p.EndDate != nil && now.After(*p.EndDate)
}

// HasVoted reports whether userID already cast a ballot.
func (p *Poll) HasVoted(userID string) bool {
	_, ok := p.Ballots[userID]
	return ok
}

func (p *Poll) vote(op, userID string, indexes []int, now time.Time) error {
	if !p.Open(now) {
		return NewError(CodeInactive, op, "poll is closed")
	}
	if len(indexes) == 0 {
		return validation(op, "at least one option is required")
	}
	seen := make(map[int]struct{}, len(indexes))
	for _, i := range indexes {
		if i < 0 || i >= len(p.Options) {
			return validation(op, fmt.Sprintf("option index %d out of range", i))
		}
		if _, dup := seen[i]; dup {
			return validation(op, fmt.Sprintf("option index %d selected twice", i))
		}
		seen[i] = struct{}{}
	}
	if !p.AllowMultipleVotes && len(indexes) > 1 {
		return NewError(CodeMultiVoteNotAllowed, op, "poll allows a single option")
	}
	if p.HasVoted(userID) {
		return NewError(CodeAlreadyVoted, op, "user has already voted")
	}

	for _, i := range indexes {
		p.Options[i].Voters = append(p.Options[i].Voters, userID)
		p.Options[i].Votes++
	}
	p.TotalVotes += len(indexes)
	if p.Ballots == nil {
		p.Ballots = make(map[string][]int)
	}
	p.Ballots[userID] = append([]int(nil), indexes...)
	return nil
}

func (p *Poll) update(op string, patch PollPatch, now time.Time) error {
	question := p.Question
	if patch.Question != nil {
		q, err := validateQuestion(op, *patch.Question)
		if err != nil {
			return err
		}
		question = q
	}
	var options []PollOption
	if patch.Options != nil {
		if p.TotalVotes > 0 {
			return NewError(CodeImmutable, op, "options cannot change once votes exist")
		}
		opts, err := buildOptions(op, patch.Options)
		if err != nil {
			return err
		}
		options = opts
	}
	if patch.EndDate != nil {
		if err := validateEndDate(op, patch.EndDate, now); err != nil {
			return err
		}
	}

	p.Question = question
	if options != nil {
		p.Options = options
		p.Ballots = map[string][]int{}
	}
	if patch.AllowMultipleVotes != nil {
		p.AllowMultipleVotes = *patch.AllowMultipleVotes
	}
	if patch.IsActive != nil {
		p.IsActive = *patch.IsActive
	}
	switch {
	case patch.EndDate != nil:
		end := patch.EndDate.UTC()
		p.EndDate = &end
	case patch.ClearEndDate:
		p.EndDate = nil
	}
	return nil
}

// OptionResult is the read view of one option.
type OptionResult struct {
	Index      int    `json:"index"`
	Text       string `json:"text"`
	Votes      int    `json:"votes"`
	Percentage string `json:"percentage"`
}

// PollResults is the computed, read-only view of a poll.
type PollResults struct {
	Question           string         `json:"question"`
	Options            []OptionResult `json:"options"`
	TotalVotes         int            `json:"totalVotes"`
	AllowMultipleVotes bool           `json:"allowMultipleVotes"`
	IsActive           bool           `json:"isActive"`
	EndDate            *time.Time     `json:"endDate,omitempty"`
	IsPollEnded        bool           `json:"isPollEnded"`
	HasVoted           bool           `json:"hasVoted"`
	UserVotes          []int          `json:"userVotes,omitempty"`
}

// Results computes percentages and, when viewerID is set, the viewer's picks.
func (p *Poll) Results(viewerID string, now time.Time) PollResults {
	res := PollResults{
		Question:           p.Question,
		Options:            make([]OptionResult, len(p.Options)),
		TotalVotes:         p.TotalVotes,
		AllowMultipleVotes: p.AllowMultipleVotes,
		IsActive:           p.IsActive,
		EndDate:            p.EndDate,
		IsPollEnded:        p.Ended(now),
	}
	for i, o := range p.Options {
		res.Options[i] = OptionResult{
			Index:      i,
			Text:       o.Text,
			Votes:      o.Votes,
			Percentage: percentage(o.Votes, p.TotalVotes),
		}
	}
	if viewerID != "" {
		if picks, ok := p.Ballots[viewerID]; ok {
			res.HasVoted = true
			res.UserVotes = append([]int(nil), picks...)
		}
	}
	return res
}

func percentage(votes, total int) string {
	if total == 0 {
		return "0.0"
	}
	return fmt.Sprintf("%.1f", float64(votes)/float64(total)*100)
}

func (p *Poll) clone() *Poll {
	if p == nil {
		return nil
	}
	out := *p
	out.Options = make([]PollOption, len(p.Options))
	for i, o := range p.Options {
		o.Voters = append(make([]string, 0, len(o.Voters)), o.Voters...)
		out.Options[i] = o
	}
	if p.EndDate != nil {
		end := *p.EndDate
		out.EndDate = &end
	}
	out.Ballots = make(map[string][]int, len(p.Ballots))
	for u, picks := range p.Ballots {
		out.Ballots[u] = append([]int(nil), picks...)
	}
	return &out
}
