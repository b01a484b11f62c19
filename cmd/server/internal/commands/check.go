package commands

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"text/tabwriter"

	"github.com/google/uuid"
	"github.com/wolfeidau/famblog/internal/authz"
	"github.com/wolfeidau/famblog/internal/config"
	"github.com/wolfeidau/famblog/internal/models"
)

type CheckCmd struct {
	Config    string   `help:"path to the route policy file" default:"config/famblog.yaml" env:"FAMBLOG_CONFIG"`
	Role      string   `help:"profile role of the subject" default:""`
	Family    string   `help:"profile family_id of the subject" default:""`
	Anonymous bool     `help:"evaluate as a request without an identity" default:"false"`
	NoProfile bool     `help:"evaluate as an identity without a profile row" default:"false"`
	Format    string   `help:"output format" default:"text" enum:"text,json"`
	Paths     []string `arg:"" name:"path" help:"request paths to evaluate"`

	out io.Writer `kong:"-"`
}

func (c *CheckCmd) Validate() error {
	if c.Anonymous && c.NoProfile {
		return errors.New("--anonymous and --no-profile are mutually exclusive")
	}
	if (c.Anonymous || c.NoProfile) && (c.Role != "" || c.Family != "") {
		return errors.New("--role and --family need a profile")
	}
	if !c.Anonymous && !c.NoProfile && (c.Role == "" || c.Family == "") {
		return errors.New("--role and --family are required unless --anonymous or --no-profile is set")
	}
	return nil
}

type checkResult struct {
	Path       string `json:"path"`
	Required   string `json:"required"`
	Rule       string `json:"rule,omitempty"`
	SuperAdmin bool   `json:"super_admin"`
	Allowed    bool   `json:"allowed"`
	Outcome    string `json:"outcome"`
	Location   string `json:"location,omitempty"`
}

func (c *CheckCmd) Run(globals *Globals) error {
	if err := c.Validate(); err != nil {
		return err
	}

	out := c.out
	if out == nil {
		out = os.Stdout
	}

	policyFile, err := config.Load(c.Config)
	if err != nil {
		return err
	}
	policy, err := policyFile.Policy()
	if err != nil {
		return err
	}

	subject := c.subject()
	gateCfg := policyFile.Gate()

	results := make([]checkResult, 0, len(c.Paths))
	for _, p := range c.Paths {
		d := policy.Evaluate(subject, p)

		res := checkResult{
			Path:       p,
			Required:   d.Required.String(),
			SuperAdmin: d.IsSuperAdmin,
			Allowed:    d.Allowed,
			Outcome:    d.Outcome.String(),
		}
		if d.Matched {
			res.Rule = d.Rule.PathPrefix
		}
		res.Location = gateCfg.Location(d, p)
		results = append(results, res)
	}

	if c.Format == "json" {
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return enc.Encode(results)
	}

	tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "PATH\tREQUIRED\tRULE\tALLOWED\tOUTCOME\tLOCATION")
	for _, r := range results {
		rule := r.Rule
		if rule == "" {
			rule = "(default)"
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%t\t%s\t%s\n", r.Path, r.Required, rule, r.Allowed, r.Outcome, r.Location)
	}
	return tw.Flush()
}

// subject builds a synthetic subject. The identity ID is fixed since the
// policy never looks at it.
func (c *CheckCmd) subject() authz.Subject {
	if c.Anonymous {
		return authz.Subject{}
	}

	identity := &models.Identity{ID: uuid.Nil, Email: "check@localhost"}
	if c.NoProfile {
		return authz.Subject{Identity: identity}
	}

	return authz.Subject{
		Identity: identity,
		Profile:  &models.Profile{ID: identity.ID, Role: c.Role, FamilyID: c.Family},
	}
}
