// Package server contains misc server utilities.
package server

import (
	"encoding/json"
	"fmt"
	"go/types"
	"log"
	"net/http"
	"sort"
	"strings"

	"github.com/go-chi/chi"
)

// BoolT is a struct with a single Bool field
type BoolT struct {
	Bool bool `json:"bool"`
}

// IntT is a struct with a single Int field
type IntT struct {
	Int int `json:"int"`
}

// StrT is a struct with a single Str field
type StrT struct {
	Str string `json:"str"`
}

// HumanPayload is a struct containing the basic types DMA servers may work
// with.  T is the type of the payload; only the matching field is encoded.
type HumanPayload struct {
	T      types.BasicKind
	Bool   bool
	Int    int
	String string
}

// EncodeAndRespond encodes the payload as {"bool": v}, {"int": v} or
// {"str": v}.  Clients sending Accept: text/plain get the bare value.
func (hp HumanPayload) EncodeAndRespond(w http.ResponseWriter, r *http.Request) {
	var v interface{}
	switch hp.T {
	case types.Bool:
		v = BoolT{hp.Bool}
	case types.Int:
		v = IntT{hp.Int}
	case types.String:
		v = StrT{hp.String}
	default:
		http.Error(w, fmt.Sprintf("payload type %d not supported", hp.T), http.StatusInternalServerError)
		return
	}
	if strings.Contains(r.Header.Get("Accept"), "text/plain") {
		w.Header().Set("Content-Type", "text/plain")
		w.WriteHeader(http.StatusOK)
		switch hp.T {
		case types.Bool:
			fmt.Fprintln(w, hp.Bool)
		case types.Int:
			fmt.Fprintln(w, hp.Int)
		default:
			fmt.Fprintln(w, hp.String)
		}
		return
	}
	RespondJSON(w, v)
}

// RespondJSON writes v as JSON with status 200
func RespondJSON(w http.ResponseWriter, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	err := json.NewEncoder(w).Encode(v)
	if err != nil {
		fstr := fmt.Sprintf("error encoding data to json %q", err)
		log.Println(fstr)
	}
}

// Route is a method and a path pattern, e.g. {"GET", "/interrupt/{kind}"}
type Route struct {
	Method string
	Path   string
}

func (r Route) String() string {
	return r.Method + " " + r.Path
}

// RouteTable maps routes to handlers
type RouteTable map[Route]http.HandlerFunc

// Endpoints lists the routes in a RouteTable, sorted by path then method
func (rt RouteTable) Endpoints() []string {
	keys := make([]Route, 0, len(rt))
	for k := range rt {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool {
		if keys[i].Path != keys[j].Path {
			return keys[i].Path < keys[j].Path
		}
		return keys[i].Method < keys[j].Method
	})
	out := make([]string, len(keys))
	for i, k := range keys {
		out[i] = k.String()
	}
	return out
}

// Bind registers every route of the table on r
func (rt RouteTable) Bind(r chi.Router) {
	for route, h := range rt {
		r.MethodFunc(route.Method, route.Path, h)
	}
}

// HTTPer is an object which has a route table
type HTTPer interface {
	RT() RouteTable
}
