package referral

import (
	"strconv"
	"time"

	"github.com/gofiber/fiber/v2"

	"github.com/sharevest/sharevest/internal/apperr"
	"github.com/sharevest/sharevest/internal/identity"
	"github.com/sharevest/sharevest/internal/ledger"
	"github.com/sharevest/sharevest/internal/respond"
)

// Handler exposes the caller's referral network and earnings.
type Handler struct {
	svc     *Service
	users   *identity.Service
	entries ledger.Store
}

// NewHandler builds a referral handler.
func NewHandler(svc *Service, users *identity.Service, entries ledger.Store) *Handler {
	return &Handler{svc: svc, users: users, entries: entries}
}

type networkMember struct {
	ID       string `json:"id"`
	Name     string `json:"name"`
	JoinedAt string `json:"joined_at"`
}

type networkGeneration struct {
	Generation int             `json:"generation"`
	Members    []networkMember `json:"members"`
}

// Stats returns the caller's per-generation earnings roll-up.
func (h *Handler) Stats(c *fiber.Ctx) error {
	userID, _ := c.Locals("user_id").(string)
	stats, err := h.svc.Stats(c.UserContext(), userID)
	if err != nil {
		return respond.Error(c, err)
	}
	return respond.OK(c, "referral stats", stats)
}

// Network lists the caller's downlines grouped by generation.
func (h *Handler) Network(c *fiber.Ctx) error {
	userID, _ := c.Locals("user_id").(string)
	downlines, err := h.users.Downlines(c.UserContext(), userID)
	if err != nil {
		return respond.Error(c, err)
	}
	out := make([]networkGeneration, 0, len(downlines))
	for i, generation := range downlines {
		members := make([]networkMember, 0, len(generation))
		for _, u := range generation {
			members = append(members, networkMember{
				ID:       u.ID,
				Name:     u.Name,
				JoinedAt: u.CreatedAt.Format("2006-01-02"),
			})
		}
		out = append(out, networkGeneration{Generation: i + 1, Members: members})
	}
	return respond.OK(c, "referral network", out)
}

// History lists the caller's commissions, newest first.
func (h *Handler) History(c *fiber.Ctx) error {
	userID, _ := c.Locals("user_id").(string)
	limit, _ := strconv.Atoi(c.Query("limit", "50"))
	commissions, err := h.svc.History(c.UserContext(), userID, limit)
	if err != nil {
		return respond.Error(c, err)
	}
	return respond.OK(c, "commission history", commissions)
}

// Audit runs the duplicate clean-up pass. Admin only.
func (h *Handler) Audit(c *fiber.Ctx) error {
	report, err := h.svc.Audit(c.UserContext())
	if err != nil {
		return respond.Error(c, err)
	}
	return respond.OK(c, "referral audit complete", fiber.Map{
		"groups_found":     report.GroupsFound,
		"marked_duplicate": report.MarkedDuplicate,
		"amount_reclaimed": report.AmountReclaimed,
	})
}

// Reconcile re-issues commissions missing for completed source entries since
// the cutoff. Admin only.
func (h *Handler) Reconcile(c *fiber.Ctx) error {
	var since time.Time
	if q := c.Query("since"); q != "" {
		at, err := time.Parse(time.RFC3339, q)
		if err != nil {
			return respond.Error(c, apperr.Validation("since must be RFC 3339"))
		}
		since = at
	}
	report, err := h.svc.Reconcile(c.UserContext(), h.entries, since)
	if err != nil {
		return respond.Error(c, err)
	}
	return respond.OK(c, "referral reconcile complete", fiber.Map{
		"entries_scanned": report.EntriesScanned,
		"recreated":       report.Recreated,
	})
}
