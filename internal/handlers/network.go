package handlers

import (
	"net/http"

	"github.com/shopspring/decimal"

	applog "formulacost/internal/log"
)

type groupRequest struct {
	Name        string `json:"name"`
	Description string `json:"description"`
}

type memberRequest struct {
	MaterialCode     string          `json:"material_code"`
	ConversionFactor decimal.Decimal `json:"conversion_factor"`
	Priority         int             `json:"priority"`
}

type substitutionRequest struct {
	SourceCode       string          `json:"source_code"`
	TargetCode       string          `json:"target_code"`
	ConversionFactor decimal.Decimal `json:"conversion_factor"`
	MaxRatio         decimal.Decimal `json:"max_ratio"`
	Notes            string          `json:"notes"`
}

// GroupResource serves /api/groups, /api/groups/{id} and /api/groups/{id}/members.
func GroupResource(w http.ResponseWriter, r *http.Request) {
	if !requireDatabase(w, r) {
		return
	}

	segments := pathSegments(r, "/api/groups")
	if len(segments) == 0 {
		switch r.Method {
		case http.MethodGet:
			groups, err := network.ListGroups(r.Context())
			if err != nil {
				writeError(w, r, err)
				return
			}
			writeJSON(w, http.StatusOK, groups)
		case http.MethodPost:
			var req groupRequest
			if !decodeJSON(w, r, &req) {
				return
			}
			group, err := network.CreateGroup(r.Context(), req.Name, req.Description)
			if err != nil {
				writeError(w, r, err)
				return
			}
			writeJSON(w, http.StatusCreated, group)
		default:
			w.WriteHeader(http.StatusMethodNotAllowed)
		}
		return
	}

	groupID, ok := parseID(segments[0])
	if !ok {
		applog.Debug(r.Context(), "invalid group identifier", "identifier", segments[0])
		http.NotFound(w, r)
		return
	}

	if len(segments) == 2 && segments[1] == "members" {
		if r.Method != http.MethodPost {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		var req memberRequest
		if !decodeJSON(w, r, &req) {
			return
		}
		member, err := network.AddMember(r.Context(), groupID, req.MaterialCode, req.ConversionFactor, req.Priority)
		if err != nil {
			writeError(w, r, err)
			return
		}
		writeJSON(w, http.StatusCreated, member)
		return
	}
	if len(segments) > 1 {
		http.NotFound(w, r)
		return
	}

	switch r.Method {
	case http.MethodGet:
		group, err := network.GetGroup(r.Context(), groupID)
		if err != nil {
			writeError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, group)
	case http.MethodDelete:
		if err := network.DeleteGroup(r.Context(), groupID); err != nil {
			writeError(w, r, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	default:
		w.WriteHeader(http.StatusMethodNotAllowed)
	}
}

// MemberResource serves DELETE /api/members/{id}.
func MemberResource(w http.ResponseWriter, r *http.Request) {
	if !requireDatabase(w, r) {
		return
	}
	segments := pathSegments(r, "/api/members")
	if len(segments) != 1 {
		http.NotFound(w, r)
		return
	}
	memberID, ok := parseID(segments[0])
	if !ok {
		http.NotFound(w, r)
		return
	}
	if r.Method != http.MethodDelete {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	if err := network.RemoveMember(r.Context(), memberID); err != nil {
		writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// SubstitutionResource serves /api/substitutions and /api/substitutions/{id}.
func SubstitutionResource(w http.ResponseWriter, r *http.Request) {
	if !requireDatabase(w, r) {
		return
	}

	segments := pathSegments(r, "/api/substitutions")
	if len(segments) == 0 {
		switch r.Method {
		case http.MethodGet:
			rules, err := network.ListSubstitutions(r.Context())
			if err != nil {
				writeError(w, r, err)
				return
			}
			writeJSON(w, http.StatusOK, rules)
		case http.MethodPost:
			var req substitutionRequest
			if !decodeJSON(w, r, &req) {
				return
			}
			rule, err := network.AddSubstitution(r.Context(), req.SourceCode, req.TargetCode, req.ConversionFactor, req.MaxRatio, req.Notes)
			if err != nil {
				writeError(w, r, err)
				return
			}
			writeJSON(w, http.StatusCreated, rule)
		default:
			w.WriteHeader(http.StatusMethodNotAllowed)
		}
		return
	}

	ruleID, ok := parseID(segments[0])
	if !ok || len(segments) > 1 {
		http.NotFound(w, r)
		return
	}
	if r.Method != http.MethodDelete {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	if err := network.DeleteSubstitution(r.Context(), ruleID); err != nil {
		writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
