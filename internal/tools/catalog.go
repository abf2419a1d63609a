package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/pkg/errors"

	"agent-router/internal/domain"
)

// CatalogAPI is the catalog surface the reservation tools need.
type CatalogAPI interface {
	List(ctx context.Context, kind string) ([]domain.Entity, error)
	Get(ctx context.Context, kind, id string) (domain.Entity, error)
	GetByIDs(ctx context.Context, kind string, ids []string) ([]domain.Entity, error)
	SetReserved(ctx context.Context, kind, id string, reserved bool) (domain.Entity, error)
}

type listArgs struct {
	Query string `json:"query"`
}

type byIDsArgs struct {
	IDs []string `json:"ids"`
}

type reserveArgs struct {
	ID      string `json:"id"`
	Confirm bool   `json:"confirm"`
}

func decodeArgs(raw json.RawMessage, v any) error {
	if len(raw) == 0 || string(raw) == "null" {
		return nil
	}
	if err := json.Unmarshal(raw, v); err != nil {
		return errors.Wrap(err, "tools: invalid arguments")
	}
	return nil
}

func title(s string) string {
	if s == "" {
		return s
	}
	return strings.ToUpper(s[:1]) + s[1:]
}

func prettyJSON(v any) string {
	b, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Sprintf("%v", v)
	}
	return string(b)
}

// CatalogTools returns list, get-by-ids and reserve tools for one kind.
func CatalogTools(api CatalogAPI, kind string) []Tool {
	singular := domain.Singular(kind)
	return []Tool{
		{
			Name:        "list_" + kind,
			Description: fmt.Sprintf("Get all available %s. Returns every record including availability. The optional query narrows the result to matching %s.", kind, kind),
			Parameters: objectSchema(map[string]any{
				"query": map[string]any{"type": "string", "description": "Optional search text from the user"},
			}),
			Call: func(ctx context.Context, raw json.RawMessage) (string, error) {
				var args listArgs
				if err := decodeArgs(raw, &args); err != nil {
					return "", err
				}
				return listEntities(ctx, api, kind, args.Query)
			},
		},
		{
			Name:        fmt.Sprintf("get_%s_by_ids", kind),
			Description: fmt.Sprintf("Get specific %s by their ids, for suggesting or comparing options.", kind),
			Parameters: objectSchema(map[string]any{
				"ids": map[string]any{
					"type":        "array",
					"items":       map[string]any{"type": "string"},
					"description": fmt.Sprintf("The %s ids to fetch", singular),
				},
			}, "ids"),
			Call: func(ctx context.Context, raw json.RawMessage) (string, error) {
				var args byIDsArgs
				if err := decodeArgs(raw, &args); err != nil {
					return "", err
				}
				return entitiesByIDs(ctx, api, kind, args.IDs)
			},
		},
		{
			Name:        "reserve_" + singular,
			Description: fmt.Sprintf("Reserve a %s by id. Nothing is booked unless confirm is true; ask the user first.", singular),
			Parameters: objectSchema(map[string]any{
				"id":      map[string]any{"type": "string", "description": fmt.Sprintf("The %s id to reserve", singular)},
				"confirm": map[string]any{"type": "boolean", "description": "Set to true only after the user confirmed"},
			}, "id"),
			Call: func(ctx context.Context, raw json.RawMessage) (string, error) {
				var args reserveArgs
				if err := decodeArgs(raw, &args); err != nil {
					return "", err
				}
				return Reserve(ctx, api, kind, args.ID, args.Confirm)
			},
		},
	}
}

// AllCatalogTools returns the tools of every kind.
func AllCatalogTools(api CatalogAPI, kinds ...string) []Tool {
	var out []Tool
	for _, k := range kinds {
		out = append(out, CatalogTools(api, k)...)
	}
	return out
}

func matches(e domain.Entity, q string) bool {
	if strings.Contains(strings.ToLower(e.ID), q) {
		return true
	}
	for _, v := range e.Fields {
		if s, ok := v.(string); ok && strings.Contains(strings.ToLower(s), q) {
			return true
		}
	}
	return false
}

func listEntities(ctx context.Context, api CatalogAPI, kind, query string) (string, error) {
	all, err := api.List(ctx, kind)
	if err != nil {
		return "", errors.Wrapf(err, "failed to fetch %s", kind)
	}
	shown := all
	q := strings.ToLower(strings.TrimSpace(query))
	if q != "" {
		var hits []domain.Entity
		for _, e := range all {
			if matches(e, q) {
				hits = append(hits, e)
			}
		}
		// an unmatched query still returns everything for the model to judge
		if len(hits) > 0 {
			shown = hits
		}
	}
	return fmt.Sprintf("📋 **Available %s**\n\nTotal %s: %d\n\nFull %s data for analysis:\n%s",
		title(kind), kind, len(shown), domain.Singular(kind), prettyJSON(shown)), nil
}

func entitiesByIDs(ctx context.Context, api CatalogAPI, kind string, ids []string) (string, error) {
	singular := domain.Singular(kind)
	if len(ids) == 0 {
		return fmt.Sprintf("⚠️ No %s IDs provided. Please provide at least one %s ID.", singular, singular), nil
	}
	found, err := api.GetByIDs(ctx, kind, ids)
	if err != nil {
		return "", errors.Wrapf(err, "failed to fetch suggested %s", kind)
	}
	if len(found) == 0 {
		return fmt.Sprintf("❌ No %s found matching the provided IDs: %s", kind, strings.Join(ids, ", ")), nil
	}
	return fmt.Sprintf("**Suggested %s** (%d of %d requested)\n\n%s", title(kind), len(found), len(ids), prettyJSON(found)), nil
}

// Reserve books an entity. Without confirm it only asks for confirmation. It
// re-reads the entity before writing so an already reserved one is left
// untouched; a concurrent reservation between the read and the PATCH still
// wins last.
func Reserve(ctx context.Context, api CatalogAPI, kind, id string, confirm bool) (string, error) {
	singular := domain.Singular(kind)
	id = strings.TrimSpace(id)
	if id == "" {
		return "", errors.Errorf("%s id is required", singular)
	}
	if !confirm {
		return fmt.Sprintf("**%s Selected for Reservation**\n\n%s ID: %s\n\n⚠️ Please confirm to proceed with the reservation.\nSet 'confirm' to true to complete the booking.",
			title(singular), title(singular), id), nil
	}

	current, err := api.Get(ctx, kind, id)
	if err != nil {
		return "", errors.Wrapf(err, "failed to reserve %s", singular)
	}
	if current.Reserved {
		return fmt.Sprintf("❌ **Reservation Failed**\n\n%s %s is already reserved.\n\n%s Details:\n%s",
			title(singular), id, title(singular), prettyJSON(current)), nil
	}

	updated, err := api.SetReserved(ctx, kind, id, true)
	if err != nil {
		return "", errors.Wrapf(err, "failed to reserve %s", singular)
	}
	return fmt.Sprintf("✅ **%s Reserved Successfully!**\n\n%s ID: %s\n\n📋 Full Details:\n%s",
		title(singular), title(singular), id, prettyJSON(updated)), nil
}
