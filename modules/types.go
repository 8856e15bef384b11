package modules

import "net/http"

type Module interface {
	http.Handler
	Shutdown()
}
