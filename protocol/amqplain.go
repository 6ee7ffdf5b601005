package protocol

// EncodeAMQPLAINResponse renders the {LOGIN, PASSWORD} field-table pair
// the AMQPLAIN SASL mechanism expects as its Connection.StartOk response
// payload: a field-table encoded as a long string, without the leading
// length prefix that a top-level table() call would add (AMQPLAIN's
// response is the table body itself, not a nested field-table value).
func EncodeAMQPLAINResponse(user, password string) string {
	var w writer
	w.encodeTableBody(Table{
		"LOGIN":    user,
		"PASSWORD": password,
	})
	return string(w.buf.Bytes())
}
