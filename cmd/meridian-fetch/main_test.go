package main

import (
	"reflect"
	"testing"
)

func TestParseSymbols(t *testing.T) {
	tests := []struct {
		in   string
		want []string
	}{
		{"AAPL,MSFT", []string{"AAPL", "MSFT"}},
		{"AAPL,AAPL", []string{"AAPL"}},
		{" aapl , MSFT,Aapl,,msft ", []string{"AAPL", "MSFT"}},
		{"", nil},
		{" , ", nil},
	}
	for _, tt := range tests {
		if got := parseSymbols(tt.in); !reflect.DeepEqual(got, tt.want) {
			t.Errorf("parseSymbols(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
}
