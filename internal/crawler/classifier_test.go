package crawler

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestClassifierIsProductListing(t *testing.T) {
	t.Parallel()

	c := NewClassifier(DefaultSelectors(), nil)
	tests := []struct {
		name string
		html string
		want bool
	}{
		{name: "product list", html: listingPage("/p/1"), want: true},
		{name: "seo product", html: `<div class="seoProduct" href="/p/9"></div>`, want: true},
		{name: "department", html: departmentPage(Department{Name: "Beds", URL: "/beds"}), want: false},
		{name: "product details outside list", html: `<div class="productDetails"></div>`, want: false},
		{name: "empty", html: `<html></html>`, want: false},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			require.Equal(t, tc.want, c.IsProductListing(mustDoc(t, tc.html)))
		})
	}
}

func TestClassifierFailsClosed(t *testing.T) {
	t.Parallel()

	c := NewClassifier(Selectors{ProductListing: "#productLists[["}, nil)
	require.False(t, c.IsProductListing(mustDoc(t, listingPage("/p/1"))))
	require.False(t, c.IsProductListing(nil))
}

func TestSelectorsWithDefaults(t *testing.T) {
	t.Parallel()

	s := Selectors{Price: ".price"}.withDefaults()
	require.Equal(t, ".price", s.Price)
	require.Equal(t, DefaultSelectors().ItemNumber, s.ItemNumber)
	require.Equal(t, DefaultSelectors().DepartmentLink, s.DepartmentLink)
}
