package handlers

import (
	"net/http"

	"github.com/gonglijing/iotconsole/internal/logger"
)

func writeServerErrorWithLog(w http.ResponseWriter, def APIErrorDef, err error) {
	if err != nil {
		if def.Code != "" {
			logger.Error(def.Code, err)
		} else {
			logger.Error(def.Message, err)
		}
	}
	WriteServerErrorDef(w, def)
}
