// SPDX-License-Identifier: GPL-3.0-or-later
package imapconnection

func u32(val int) uint32 {
	return uint32(val)
}
