package txqueue

import (
	"net"

	"github.com/kdanielm/mdnsd/internal/model"
	"github.com/kdanielm/mdnsd/internal/wire"
)

// AnswerContext carries the inputs ComposeAnswer needs beyond the question
// itself: the data model and the responding interface's own addresses.
// Callers (internal/dispatch) fill this in per-PCB before composing.
type AnswerContext struct {
	Store           *model.Store
	SelfHostname    string
	DefaultInstance string
	IfaceAddrsV4    []net.IP
	IfaceAddrsV6    []net.IP
	RespondReverse  bool
}

// ComposeAnswer implements spec.md §4.2's answer-composition policy table:
// given one parsed question, it returns the records that belong in the
// answer section and the records that belong in the additional section.
// Both may be empty when nothing in the data model matches.
func ComposeAnswer(q wire.Question, name wire.Name, ctx AnswerContext) (answers, additional []wire.Record) {
	switch {
	case name.Invalid:
		return nil, nil

	case name.Reverse:
		return composeReverse(q, name, ctx)

	case q.Name == wire.SDPTRName && (q.Type == wire.TypePTR || q.Type == wire.TypeANY):
		return composeSDPTR(ctx), nil

	case name.Subtype:
		return composeSubtypePTR(q, name, ctx)

	case q.Type == wire.TypePTR && name.Host == "" && name.Service != "":
		return composeServicePTR(q, name, ctx)

	case q.Type == wire.TypeSRV:
		return composeSRV(q, ctx)

	case q.Type == wire.TypeTXT:
		return composeTXT(q, ctx)

	case (q.Type == wire.TypeA || q.Type == wire.TypeAAAA) && name.Host != "" && name.Service == "":
		return hostnameAddrAnswer(name.Host, q.Type, ctx), nil

	case q.Type == wire.TypeANY && name.Host != "" && name.Service == "":
		var out []wire.Record
		out = append(out, hostnameAddrAnswer(name.Host, wire.TypeA, ctx)...)
		out = append(out, hostnameAddrAnswer(name.Host, wire.TypeAAAA, ctx)...)
		return out, nil
	}
	return nil, nil
}

func composeSDPTR(ctx AnswerContext) []wire.Record {
	seen := make(map[string]bool)
	var out []wire.Record
	for _, svc := range ctx.Store.Services() {
		sn := svc.ServiceName()
		if seen[sn] {
			continue
		}
		seen[sn] = true
		out = append(out, BuildSDPTR(svc, DefaultSharedTTL))
	}
	return out
}

func composeServicePTR(q wire.Question, name wire.Name, ctx AnswerContext) (answers, additional []wire.Record) {
	for _, svc := range ctx.Store.ServicesByType(name.Service, name.Proto) {
		answers = append(answers, BuildPTR(svc, ctx.DefaultInstance, DefaultSharedTTL))
		additional = append(additional, instanceAdditional(svc, ctx)...)
	}
	return answers, additional
}

func composeSubtypePTR(q wire.Question, name wire.Name, ctx AnswerContext) (answers, additional []wire.Record) {
	if q.Type != wire.TypePTR && q.Type != wire.TypeANY {
		return nil, nil
	}
	for _, svc := range ctx.Store.ServicesByType(name.Service, name.Proto) {
		for _, st := range svc.Subtypes {
			if st.Label == name.SubtypeLabel {
				answers = append(answers, BuildSubtypePTR(svc, st.Label, ctx.DefaultInstance, DefaultSharedTTL))
				additional = append(additional, instanceAdditional(svc, ctx)...)
			}
		}
	}
	return answers, additional
}

func composeSRV(q wire.Question, ctx AnswerContext) (answers, additional []wire.Record) {
	svc := findServiceByInstanceName(ctx.Store, q.Name, ctx.DefaultInstance)
	if svc == nil {
		return nil, nil
	}
	rec := BuildSRV(svc, ctx.DefaultInstance, ctx.SelfHostname, true)
	addrs := hostAddrs(svc, ctx)
	if svc.IsDelegated() {
		// Delegated-host services answer from the additional section so the
		// PTR-less SRV/TXT query doesn't claim authority over a host this
		// responder doesn't own (spec.md §4.2).
		return nil, append([]wire.Record{rec}, addrs...)
	}
	return []wire.Record{rec}, addrs
}

func composeTXT(q wire.Question, ctx AnswerContext) (answers, additional []wire.Record) {
	svc := findServiceByInstanceName(ctx.Store, q.Name, ctx.DefaultInstance)
	if svc == nil {
		return nil, nil
	}
	rec := BuildTXT(svc, ctx.DefaultInstance, true)
	if svc.IsDelegated() {
		return nil, []wire.Record{rec}
	}
	return []wire.Record{rec}, nil
}

func composeReverse(q wire.Question, name wire.Name, ctx AnswerContext) (answers, additional []wire.Record) {
	if !ctx.RespondReverse || (q.Type != wire.TypePTR && q.Type != wire.TypeANY) {
		return nil, nil
	}
	ip := reverseNameToIP(name.RawName)
	if ip == nil {
		return nil, nil
	}
	if ipInList(ip, ctx.IfaceAddrsV4) || ipInList(ip, ctx.IfaceAddrsV6) {
		if rec, err := BuildReversePTR(ip, ctx.SelfHostname, DefaultHostTTL); err == nil {
			return []wire.Record{rec}, nil
		}
		return nil, nil
	}
	for _, h := range ctx.Store.DelegatedHosts() {
		if stringIPListContains(h.AddrsV4, ip) || stringIPListContains(h.AddrsV6, ip) {
			if rec, err := BuildReversePTR(ip, h.Hostname, DefaultHostTTL); err == nil {
				return []wire.Record{rec}, nil
			}
			return nil, nil
		}
	}
	return nil, nil
}

// instanceAdditional builds the SRV, TXT and host-address records that
// accompany a PTR answer in the additional section, per spec.md §4.2. This
// applies uniformly whether or not the service's host is delegated — only
// SRV/TXT *questions answered directly* move to additional for delegated
// hosts (see composeSRV/composeTXT).
func instanceAdditional(svc *model.Service, ctx AnswerContext) []wire.Record {
	var out []wire.Record
	out = append(out, BuildSRV(svc, ctx.DefaultInstance, ctx.SelfHostname, true))
	out = append(out, BuildTXT(svc, ctx.DefaultInstance, true))
	out = append(out, hostAddrs(svc, ctx)...)
	return out
}

func hostAddrs(svc *model.Service, ctx AnswerContext) []wire.Record {
	if svc.IsDelegated() {
		h, ok := ctx.Store.DelegatedHost(svc.Host)
		if !ok {
			return nil
		}
		var out []wire.Record
		for _, s := range h.AddrsV4 {
			if ip := net.ParseIP(s); ip != nil {
				out = append(out, BuildA(h.Hostname, ip, true))
			}
		}
		for _, s := range h.AddrsV6 {
			if ip := net.ParseIP(s); ip != nil {
				out = append(out, BuildAAAA(h.Hostname, ip, true))
			}
		}
		return out
	}
	var out []wire.Record
	for _, ip := range ctx.IfaceAddrsV4 {
		out = append(out, BuildA(ctx.SelfHostname, ip, true))
	}
	for _, ip := range ctx.IfaceAddrsV6 {
		out = append(out, BuildAAAA(ctx.SelfHostname, ip, true))
	}
	return out
}

func hostnameAddrAnswer(host string, qtype uint16, ctx AnswerContext) []wire.Record {
	if host == ctx.SelfHostname {
		var out []wire.Record
		if qtype == wire.TypeA {
			for _, ip := range ctx.IfaceAddrsV4 {
				out = append(out, BuildA(host, ip, true))
			}
		} else {
			for _, ip := range ctx.IfaceAddrsV6 {
				out = append(out, BuildAAAA(host, ip, true))
			}
		}
		return out
	}
	h, ok := ctx.Store.DelegatedHost(host)
	if !ok {
		return nil
	}
	addrs := h.AddrsV4
	if qtype == wire.TypeAAAA {
		addrs = h.AddrsV6
	}
	var out []wire.Record
	for _, s := range addrs {
		ip := net.ParseIP(s)
		if ip == nil {
			continue
		}
		if qtype == wire.TypeA {
			out = append(out, BuildA(host, ip, true))
		} else {
			out = append(out, BuildAAAA(host, ip, true))
		}
	}
	return out
}

func findServiceByInstanceName(store *model.Store, qname, defaultInstance string) *model.Service {
	for _, svc := range store.Services() {
		if svc.InstanceName(defaultInstance) == qname {
			return svc
		}
	}
	return nil
}

func ipInList(ip net.IP, list []net.IP) bool {
	for _, c := range list {
		if c.Equal(ip) {
			return true
		}
	}
	return false
}

func stringIPListContains(list []string, ip net.IP) bool {
	for _, s := range list {
		if c := net.ParseIP(s); c != nil && c.Equal(ip) {
			return true
		}
	}
	return false
}
