package rpcpool

import (
	"fmt"

	"github.com/miekg/dns"
)

// ResolveSRV looks up an SRV record and returns each target as an
// "https://host:port" write endpoint, for operators who publish their relay
// fleet via DNS instead of a fixed URL list.
func ResolveSRV(name, resolver string) ([]string, error) {
	msg := new(dns.Msg)
	msg.SetQuestion(dns.Fqdn(name), dns.TypeSRV)

	client := new(dns.Client)
	resp, _, err := client.Exchange(msg, resolver)
	if err != nil {
		return nil, fmt.Errorf("rpcpool: SRV lookup for %s failed: %w", name, err)
	}
	if resp.Rcode != dns.RcodeSuccess {
		return nil, fmt.Errorf("rpcpool: SRV lookup for %s returned rcode %d", name, resp.Rcode)
	}

	urls := make([]string, 0, len(resp.Answer))
	for _, ans := range resp.Answer {
		srv, ok := ans.(*dns.SRV)
		if !ok {
			continue
		}
		host := dns.Fqdn(srv.Target)
		urls = append(urls, fmt.Sprintf("https://%s:%d", host[:len(host)-1], srv.Port))
	}
	return urls, nil
}
