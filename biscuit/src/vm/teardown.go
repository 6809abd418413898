package vm

/// FreeAll walks every mapping in the user (lower) half of the address
/// space and returns every frame it owns — leaf data pages and the
/// intermediate page-table pages themselves — to the physical allocator,
/// then frees the root table. The shared kernel half (entries
/// rootKernelBase..rootEntries-1) is never touched: it outlives every
/// address space that links to it. Called once, when a task's last
/// reference to this address space is dropped.
func (as *AS_t) FreeAll() {
	as.Lock_pmap()
	defer as.Unlock_pmap()

	root := as.table(as.Root)
	for i := 0; i < rootKernelBase; i++ {
		l1pte := root[i]
		if l1pte&PTE_V == 0 {
			continue
		}
		l1pa := ppn2pa(l1pte)
		l1 := as.table(l1pa)
		for j := 0; j < rootEntries; j++ {
			l0pte := l1[j]
			if l0pte&PTE_V == 0 {
				continue
			}
			l0pa := ppn2pa(l0pte)
			l0 := as.table(l0pa)
			for k := 0; k < rootEntries; k++ {
				leaf := l0[k]
				if leaf&PTE_V == 0 {
					continue
				}
				as.ppa.Free4k(ppn2pa(leaf))
			}
			as.ppa.Free4k(l0pa)
		}
		as.ppa.Free4k(l1pa)
		root[i] = 0
	}
	as.ppa.Free4k(as.Root)
}
