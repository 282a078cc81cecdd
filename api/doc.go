// Package api exposes the kernels as a request/response service.
//
// A request is an Arrow IPC stream whose first record carries the input
// column and whose schema metadata selects the kernel:
//
//	op          validate | parent | children | change_resolution | compact |
//	            uncompact | boundary | center | grid_disk | wkb_to_cells
//	resolution  target resolution (parent, children, change_resolution,
//	            uncompact, wkb_to_cells)
//	k           ring distance (grid_disk)
//	mode        center | overlap | full (wkb_to_cells)
//	column      input column name
//	policy      reject | null_out
//	request_id  echoed back; generated when absent
//
// The response is a single-record stream with status=ok metadata, or a
// zero-column record with status=error and the message under "error".
//
// Requests travel as length-prefixed frames over TCP (Server, Client), as
// ZeroMQ REQ/REP messages (ZmqServer, ZmqClient) or as the payload of the
// unary gRPC method h3arrow.Kernels/Process (GrpcServer, GrpcClient).
package api
