package session

// fionread is FIONREAD from <sys/filio.h>: _IOR('f', 127, int).
// golang.org/x/sys/unix does not export it for darwin.
const fionread = 0x4004667f
