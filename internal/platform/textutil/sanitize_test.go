package textutil

import "testing"

func TestSanitizePlainText(t *testing.T) {
	cases := []struct {
		input string
		want  string
	}{
		{input: "  plain  ", want: "plain"},
		{input: "<b>bold</b> move", want: "bold move"},
		{input: "<script>alert(1)</script>Restock", want: "Restock"},
		{input: "Tom & Jerry", want: "Tom & Jerry"},
		{input: "line\x00break", want: "linebreak"},
		{input: "", want: ""},
	}
	for _, tc := range cases {
		if got := SanitizePlainText(tc.input); got != tc.want {
			t.Fatalf("SanitizePlainText(%q) = %q, want %q", tc.input, got, tc.want)
		}
	}
}

func TestNormalizeSKU(t *testing.T) {
	cases := []struct {
		input string
		want  string
	}{
		{input: " ab-01 ", want: "AB-01"},
		{input: "ＳＫＵ－１", want: "SKU-1"},
		{input: "sk u 9", want: "SKU9"},
	}
	for _, tc := range cases {
		if got := NormalizeSKU(tc.input); got != tc.want {
			t.Fatalf("NormalizeSKU(%q) = %q, want %q", tc.input, got, tc.want)
		}
	}
}
