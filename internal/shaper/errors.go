package shaper

import "fmt"

func errUnknownProvider(providerKey string) error {
	return fmt.Errorf("shaper: unknown provider key %q", providerKey)
}

var errShaperStateContention = fmt.Errorf("shaper: state save lost to concurrent writer after retries")
