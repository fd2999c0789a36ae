package protocol

import "github.com/nanoproto/sp/spcode"

var (
	errEAGAIN      = spcode.New(spcode.EAGAIN)
	errEFSM        = spcode.New(spcode.EFSM)
	errETMOUT      = spcode.New(spcode.ETIMEDOUT)
	errNOTSUP      = spcode.New(spcode.ENOTSUP)
	errEINVAL      = spcode.New(spcode.EINVAL)
	errENOPROTOOPT = spcode.New(spcode.ENOPROTOOPT)
)
