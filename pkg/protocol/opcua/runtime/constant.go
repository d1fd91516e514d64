package runtime

import "errors"

var ErrManyRetry = errors.New("opc ua request retried more than three times")
var ErrConnectOpcUaServer = errors.New("can not connect to opc ua server")
var ErrBadStatus = errors.New("opc ua server returned a bad status")
var ErrNamespaceNotFound = errors.New("namespace not found")
