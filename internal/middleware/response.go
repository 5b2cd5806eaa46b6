package middleware

import (
	"net/http"

	"github.com/imaginegw/imagine-gateway-go/internal/httputil"
)

func writeError(w http.ResponseWriter, err error) {
	httputil.WriteError(w, err)
}
