package handler

// NOP is the do-nothing MessageHandler: header length is always 0 and
// every message gets an empty reply, per spec §4.2.
type NOP struct{}

func NewNOPFactory() Factory {
	return func() (Handler, error) {
		return NOP{}, nil
	}
}

func (NOP) ParseHeader(buf []byte) HeaderResult {
	return HeaderResult{Length: 0, Status: StatusOK}
}

func (NOP) ParseMessage(header, body []byte) (Response, error) {
	return Response{}, nil
}
