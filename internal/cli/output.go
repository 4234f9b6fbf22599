package cli

import (
	"fmt"
	"io"

	"github.com/bytedance/sonic"
)

func writeIndentedJSON(out io.Writer, v any) error {
	data, err := sonic.ConfigStd.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(out, string(data))
	return err
}
