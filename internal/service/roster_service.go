package service

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/noah-isme/questplus-school-api/internal/models"
	appErrors "github.com/noah-isme/questplus-school-api/pkg/errors"
	"github.com/noah-isme/questplus-school-api/pkg/export"
)

type rosterSource interface {
	Get(ctx context.Context, id string) (*models.Group, error)
	ListMembers(ctx context.Context, groupID string, kind models.MembershipKind) ([]models.UserAccount, error)
}

// RosterFile is a rendered group roster.
type RosterFile struct {
	Name        string
	ContentType string
	Data        []byte
}

// RosterService exports the learners of a group.
type RosterService struct {
	groups rosterSource
	now    func() time.Time
}

// NewRosterService constructs a RosterService.
func NewRosterService(groups rosterSource) *RosterService {
	return &RosterService{groups: groups, now: func() time.Time { return time.Now().UTC() }}
}

// Export renders the active learners of groupID in the requested format.
func (s *RosterService) Export(ctx context.Context, groupID, format string) (*RosterFile, error) {
	f, err := export.ParseFormat(format)
	if err != nil {
		return nil, appErrors.Clone(appErrors.ErrValidation, "format must be csv or pdf")
	}
	group, err := s.groups.Get(ctx, groupID)
	if err != nil {
		return nil, err
	}
	members, err := s.groups.ListMembers(ctx, group.ID, models.MembershipLearner)
	if err != nil {
		return nil, err
	}

	table := export.Table{
		Title:   group.Name,
		Caption: fmt.Sprintf("%d students, generated %s", len(members), s.now().Format("2006-01-02 15:04 MST")),
		Header:  []string{"Username", "First Name", "Last Name", "Email", "Admission No.", "Active"},
		Rows:    make([][]string, 0, len(members)),
	}
	for _, m := range members {
		active := "No"
		if m.Active {
			active = "Yes"
		}
		table.Rows = append(table.Rows, []string{m.Username, m.FirstName, m.LastName, m.Email, deref(m.AdmissionNo), active})
	}

	data, err := export.Render(table, f)
	if err != nil {
		return nil, internalError(err, "failed to render roster")
	}
	name := strings.NewReplacer(" ", "", "/", "-").Replace(group.Name)
	return &RosterFile{Name: fmt.Sprintf("roster-%s.%s", name, f), ContentType: f.ContentType(), Data: data}, nil
}
