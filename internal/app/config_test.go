package app

import (
	"reflect"
	"testing"

	"agegate/internal/verify"
)

func TestParseResolvers(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name    string
		in      string
		want    []verify.Resolver
		wantErr bool
	}{
		{
			name: "single namespace",
			in:   "polygon:amoy=https://rpc-amoy.polygon.technology/|0x1a4cC30f2aA0377b0c3bc9848766D90cb4404124",
			want: []verify.Resolver{{
				Namespace:       "polygon:amoy",
				RPCURL:          "https://rpc-amoy.polygon.technology/",
				ContractAddress: "0x1a4cC30f2aA0377b0c3bc9848766D90cb4404124",
			}},
		},
		{
			name: "two namespaces with spaces",
			in:   "polygon:amoy=https://rpc-amoy.polygon.technology/|0x1a4c, privado:main=https://rpc-mainnet.privado.id|0x3C9a",
			want: []verify.Resolver{
				{Namespace: "polygon:amoy", RPCURL: "https://rpc-amoy.polygon.technology/", ContractAddress: "0x1a4c"},
				{Namespace: "privado:main", RPCURL: "https://rpc-mainnet.privado.id", ContractAddress: "0x3C9a"},
			},
		},
		{name: "empty", in: "", wantErr: true},
		{name: "missing contract", in: "polygon:amoy=https://rpc.example", wantErr: true},
		{name: "missing namespace", in: "https://rpc.example|0x1a4c", wantErr: true},
		{name: "blank field", in: "polygon:amoy=|0x1a4c", wantErr: true},
	}

	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			got, err := ParseResolvers(tc.in)
			if tc.wantErr {
				if err == nil {
					t.Fatalf("ParseResolvers(%q) expected error, got %v", tc.in, got)
				}
				return
			}
			if err != nil {
				t.Fatalf("ParseResolvers(%q): %v", tc.in, err)
			}
			if !reflect.DeepEqual(got, tc.want) {
				t.Fatalf("ParseResolvers(%q)=%#v want %#v", tc.in, got, tc.want)
			}
		})
	}
}

func TestConfigQuery(t *testing.T) {
	t.Parallel()

	cfg := LoadConfig()
	q := cfg.Query()

	if q.CircuitID == "" || q.CredentialType == "" || q.Field == "" || q.Operator == "" {
		t.Fatalf("incomplete default query: %#v", q)
	}
	if q.Field != "birthday" || q.Operator != "$lt" || q.Value != 20050101 {
		t.Fatalf("default predicate changed: %#v", q)
	}
}
